package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe_Scalars(t *testing.T) {
	root := Object(
		Required("title", String("The title")),
		Optional("score", Range(0, 1, "")),
		Required("kind", Enum("", "a", "b")),
		Required("tags", Array(String("Tag"))),
	)

	want := `{
  "title": "The title",
  "score" (optional): number from 0 to 1,
  "kind": "a" | "b",
  "tags": ["Tag", ...]
}`
	assert.Equal(t, want, Describe(root))
}

func TestDescribe_ArrayOfObjects(t *testing.T) {
	root := Object(Required("items", Array(Object(Required("name", String("Name"))))))

	want := `{
  "items": [
    {
      "name": "Name"
    }
  ]
}`
	assert.Equal(t, want, Describe(root))
}

// Every enum value and every field name of a contract must appear in its
// description, otherwise the model is asked for a shape the validator rejects.
func TestDescribe_CoversContracts(t *testing.T) {
	for _, id := range Contracts() {
		c, err := Lookup(id)
		require.NoError(t, err)
		desc := c.Describe()

		var walk func(n *Node)
		walk = func(n *Node) {
			switch n.Kind {
			case KindObject:
				for _, f := range n.Fields {
					assert.Contains(t, desc, `"`+f.Name+`"`, "contract %s", id)
					walk(f.Node)
				}
			case KindArray:
				walk(n.Items)
			case KindEnum:
				assert.Contains(t, desc, strings.Join(quoteAll(n.Values), " | "), "contract %s", id)
			}
		}
		walk(c.Root)
	}
}

func TestDescribe_ContentAnalysisRanges(t *testing.T) {
	c, err := Lookup(ContractContentAnalysis)
	require.NoError(t, err)
	desc := c.Describe()

	assert.Contains(t, desc, `"consistency": number from 0 to 1`)
	assert.Contains(t, desc, `"durationPercent" (optional): number from 0 to 100`)
	assert.Contains(t, desc, `"hookAnalysis" (optional): {`)
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = `"` + v + `"`
	}
	return out
}
