package domain

type User struct {
	ID    string `db:"id" json:"_id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
	Hash  string `db:"password_hash" json:"-"`
	Role  string `db:"role" json:"role"` // USER | ADMIN
}

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Actor returns the lifecycle actor for a logged-in user.
func (u *User) Actor() Actor {
	if u.Role == RoleAdmin {
		return Actor{UserID: u.ID, Role: ActorAdmin}
	}
	return Actor{UserID: u.ID, Role: ActorCustomer}
}
