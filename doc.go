/*
Package fasturing is an embeddable HTTP/1.1 server engine driven by io_uring.

Each worker owns one completion queue, one block pool and one connection
slab, and serves every connection it accepts on a single pinned OS thread.
Request headers and bodies land in pool blocks; handlers write responses
into pool buffers which are sent with a single scatter-gather send, zero
copy once the response is large enough.

Quick Start

	package main

	import (
	    "context"

	    "github.com/searchktools/fast-uring/app"
	    "github.com/searchktools/fast-uring/config"
	    "github.com/searchktools/fast-uring/core/http"
	    "github.com/searchktools/fast-uring/logutil"
	)

	func main() {
	    cfg, err := config.New()
	    if err != nil {
	        panic(err)
	    }
	    application := app.New(cfg, logutil.New(cfg.Log))

	    engine := application.Engine()
	    engine.GET("/hello", func(req *http.Request, w http.ResponseWriter) {
	        w.WriteString("Hello, World!")
	    })
	    engine.POST("/echo", func(req *http.Request, w http.ResponseWriter) {
	        w.WriteBody(0, req.Body.Len())
	    })

	    application.Run(context.Background())
	}

Modules

  - app: worker lifecycle, CPU pinning and signal handling
  - config: flags, environment and TOML configuration
  - core: the worker loop, framing, responses and timeouts
  - core/ring: io_uring and epoll completion queues
  - core/pools: block pool, buffers and the connection slab
  - core/http: request parsing and response assembly
  - core/router: the fixed route table
  - core/middleware: handler pipeline
  - logutil: zap logger construction

Linux only. Kernels without io_uring can run the epoll backend with
-backend=epoll.
*/
package fasturing
