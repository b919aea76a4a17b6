package domain

type Post struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
	Likes    int    `json:"likes"`
	TeamID   string `json:"teamId,omitempty"`
	TeamName string `json:"teamName,omitempty"`
}

// PostReceipt is the create/edit response: the stored post plus a server message.
type PostReceipt struct {
	Post
	Message string `json:"message,omitempty"`
}

type Team struct {
	ID   string `json:"_id"`
	Name string `json:"teamName"`
}

type ActorProfile struct {
	UserID       string `json:"userId,omitempty"`
	IsTeamLeader bool   `json:"isTeamLeader"`
	Team         Team   `json:"team"`
}

type VoteRequest struct {
	UserID string `json:"userId"`
}

type VoteResult struct {
	Result  string `json:"result"`
	Likes   int    `json:"likes,omitempty"`
	Message string `json:"message,omitempty"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Notification struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Level   string `json:"level"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}
