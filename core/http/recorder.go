package http

// Recorder is an in-memory ResponseWriter for exercising handlers outside a
// worker
type Recorder struct {
	Code    Status
	Headers []Pair
	Body    []byte

	// MaxWrites limits Write and WriteBody calls when positive
	MaxWrites int

	req    *Request
	writes int
}

var _ ResponseWriter = (*Recorder)(nil)

// NewRecorder returns a Recorder for req; WriteBody reads from req.Body
func NewRecorder(req *Request) *Recorder {
	return &Recorder{Code: StatusOK, req: req}
}

func (r *Recorder) count() error {
	if r.MaxWrites > 0 && r.writes >= r.MaxWrites {
		return ErrTooManyWrites
	}
	r.writes++
	return nil
}

func (r *Recorder) Write(p []byte) (int, error) {
	if err := r.count(); err != nil {
		return 0, err
	}
	r.Body = append(r.Body, p...)
	return len(p), nil
}

func (r *Recorder) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

func (r *Recorder) WriteBody(offset, n int) error {
	if r.req == nil {
		return ErrBodyRange
	}
	var out []byte
	if !r.req.Body.Range(offset, n, func(p []byte) { out = append(out, p...) }) {
		return ErrBodyRange
	}
	if err := r.count(); err != nil {
		return err
	}
	r.Body = append(r.Body, out...)
	return nil
}

func (r *Recorder) SetStatus(s Status) { r.Code = s }

func (r *Recorder) Status() Status { return r.Code }

func (r *Recorder) SetHeader(key, value string) error {
	if err := ValidateHeader(key, value); err != nil {
		return err
	}
	r.Headers = append(r.Headers, Pair{Key: key, Value: value})
	return nil
}

// Header returns the first recorded header matching key
func (r *Recorder) Header(key string) (string, bool) {
	return lookup(r.Headers, key)
}
