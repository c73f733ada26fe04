package service

// UserResult is the per-user outcome of one sync cycle. Users whose live-TV
// configuration is absent or empty are skipped silently and never appear in
// a result set.
type UserResult struct {
	Username string `json:"username"`
	Success  bool   `json:"success"`
	Channels int    `json:"channels"`
	Programs int    `json:"programs"`
	Error    string `json:"error,omitempty"`
}

// SyncResult aggregates one full sync cycle.
type SyncResult struct {
	UsersProcessed int          `json:"users_processed"`
	Results        []UserResult `json:"results"`
}
