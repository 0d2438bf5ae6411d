package routes

var (
	BearerAuth = []map[string][]string{
		{"bearer": {}},
	}
)

type Tag string

const (
	TagHealth Tag = "health"
	TagIam    Tag = "iam"
	TagRuns   Tag = "runs"
)

func (t Tag) String() string { return string(t) }

func AllTags() []string {
	return []string{
		TagHealth.String(),
		TagIam.String(),
		TagRuns.String(),
	}
}
