package model

// ChatRequest starts one chat turn. Parts carries structured user input
// (uploaded images or videos); Message is the plain text of the turn.
type ChatRequest struct {
	Message      string        `json:"message"`
	Parts        []MessagePart `json:"parts,omitempty"`
	SessionID    string        `json:"session_id"`
	ConvID       string        `json:"conv_id"`
	CollectionID string        `json:"collection_id"`
	VideoID      string        `json:"video_id"`
	Agents       []string      `json:"agents,omitempty"` // empty offers every registered agent
}

// MessagePart is one structured part of a user message.
type MessagePart struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	URL          string `json:"url,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}


type CreateCollectionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// UploadMediaRequest imports remote media into a collection.
type UploadMediaRequest struct {
	URL       string `json:"url" binding:"required"`
	MediaType string `json:"media_type"`
	Name      string `json:"name"`
}
