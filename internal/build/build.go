package build

type Key struct{}

// InfoKey stores the build Info in a command context
var InfoKey = Key{}

// Info describes the binary, populated by the linker in release builds.
type Info struct {
	Version string
	Commit  string
	Date    string
}
