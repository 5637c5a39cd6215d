package database

// Mode is how a call is executed and what it is expected to return.
type Mode int

const (
	ModeExec   Mode = iota // no result set
	ModeReader             // rows, read one at a time
	ModeScalar             // a single value
	ModeFill               // every result set, buffered
)

func (m Mode) String() string {
	switch m {
	case ModeExec:
		return "exec"
	case ModeReader:
		return "reader"
	case ModeScalar:
		return "scalar"
	case ModeFill:
		return "fill"
	default:
		return "unknown"
	}
}

// Param is one named procedure argument.
type Param struct {
	Name  string
	Value any
}

// Call is a procedure invocation: its name, bound parameters and mode.
type Call struct {
	Procedure string
	Mode      Mode
	Params    []Param
}

// Set binds a parameter. Binding an existing name again replaces its value
// and keeps its original position.
func (c *Call) Set(name string, value any) {
	for i := range c.Params {
		if c.Params[i].Name == name {
			c.Params[i].Value = value
			return
		}
	}
	c.Params = append(c.Params, Param{Name: name, Value: value})
}

// Args returns the parameter values in bind order.
func (c *Call) Args() []any {
	args := make([]any, len(c.Params))
	for i, p := range c.Params {
		args[i] = p.Value
	}
	return args
}

// Names returns the parameter names in bind order.
func (c *Call) Names() []string {
	names := make([]string, len(c.Params))
	for i, p := range c.Params {
		names[i] = p.Name
	}
	return names
}
