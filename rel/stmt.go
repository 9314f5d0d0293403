package rel

// ParamType declares the expected type of one bound query parameter.
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
	ParamTime   ParamType = "time"
)

// Statement is what the statement layer hands us, either a Select
// carrying a logical plan, or a Command (ddl/update) that reports only
// an update count.
type Statement interface {
	stmt()
	Keyword() string
}

// Select wraps a logical plan plus the schema of its bound parameters.
type Select struct {
	Plan   PlanNode
	Params []ParamType
	Raw    string
}

// Command is a statement with no result set (ddl, update).  Execution
// against the catalog is a collaborator concern; this core only routes
// it and reports the signed update count.
type Command struct {
	Raw string
}

func (*Select) stmt()  {}
func (*Command) stmt() {}

func (*Select) Keyword() string  { return "select" }
func (*Command) Keyword() string { return "command" }
