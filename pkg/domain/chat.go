package domain

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatReply is returned by POST /api/chat on success and on failure
type ChatReply struct {
	Reply string `json:"reply"`
}

// ChatFailureReply is the only reply text a caller sees when the chat fails
const ChatFailureReply = "Sorry, there was an error processing your message."
