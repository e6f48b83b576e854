package models

// Conversation is the unordered participant pair currently being viewed,
// together with its two directional topics. At most one conversation is
// active per session.
type Conversation struct {
	Peer           string `json:"peer"`
	TopicPrimary   string `json:"topic_primary"`
	TopicSecondary string `json:"topic_secondary"`
}

// Usage reports daily message quota consumption. A limit of -1 means the
// plan is unlimited.
type Usage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Unlimited reports whether the plan has no daily cap.
func (u Usage) Unlimited() bool {
	return u.Limit < 0
}
