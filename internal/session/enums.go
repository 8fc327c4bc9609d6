package session

// MsgStatus is the status of a message or of a single content variant.
type MsgStatus string

const (
	StatusProgress     MsgStatus = "progress"
	StatusSuccess      MsgStatus = "success"
	StatusError        MsgStatus = "error"
	StatusNotGenerated MsgStatus = "not_generated"
	StatusOverLimit    MsgStatus = "overlimit"
	StatusSessionLimit MsgStatus = "sessionlimit"
)

// IsTerminal reports whether s ends a message's lifecycle.
func (s MsgStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

func (s MsgStatus) valid() bool {
	switch s {
	case StatusProgress, StatusSuccess, StatusError, StatusNotGenerated, StatusOverLimit, StatusSessionLimit:
		return true
	}
	return false
}

type MsgType string

const (
	MsgTypeInput  MsgType = "input"
	MsgTypeOutput MsgType = "output"
)

type ContentType string

const (
	ContentTypeText          ContentType = "text"
	ContentTypeVideo         ContentType = "video"
	ContentTypeVideos        ContentType = "videos"
	ContentTypeImage         ContentType = "image"
	ContentTypeSearchResults ContentType = "search_results"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// EventTypeUpdateData marks events that ask observers to reload media.
const EventTypeUpdateData = "update_data"
