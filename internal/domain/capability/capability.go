// Package capability defines the fixed set of agent capability tags.
package capability

// Tag identifies a skill an agent declares support for. Tasks carry the
// tag of the capability they require; matching happens at dispatch time
// against the set declared at agent registration.
type Tag string

const (
	Analysis       Tag = "analysis"
	CodeGeneration Tag = "code_generation"
	TestWriting    Tag = "test_writing"
	CodeReview     Tag = "code_review"
	Documentation  Tag = "documentation"
)

// All lists every known capability tag. Registration rejects
// descriptors declaring tags outside this set.
var All = []Tag{Analysis, CodeGeneration, TestWriting, CodeReview, Documentation}

// Valid reports whether t is a known capability tag.
func Valid(t Tag) bool {
	for _, known := range All {
		if t == known {
			return true
		}
	}
	return false
}
