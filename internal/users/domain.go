package users

// User carries the live account attributes the role engine evaluates
// condition formulas against.
type User struct {
	ID             string
	Username       string
	Host           string
	IsRoot         bool
	IsSuspended    bool
	IsLocked       bool
	IsBot          bool
	IsCat          bool
	IsExplorable   bool
	FollowersCount int64
	FollowingCount int64
	NotesCount     int64
}

// IsLocal reports whether the account lives on this instance.
func (u *User) IsLocal() bool {
	return u.Host == ""
}

// IsRemote reports whether the account is federated from another instance.
func (u *User) IsRemote() bool {
	return u.Host != ""
}
