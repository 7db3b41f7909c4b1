package records

// UserColumns is the column order of the users CSV produced by extract-users and consumed by
// replace-locations and the userId -> location lookup.
var UserColumns = []string{"createdAt", "followers", "favourites", "location", "userId"}

// User represents one user record from the NDJSON dump. Values are kept as dumped.
type User struct {
	CreatedAt  string `json:"createdAt"`
	Followers  string `json:"followers"`
	Favourites string `json:"favourites"`
	Location   string `json:"location"`
	UserID     string `json:"userId"`
}

// Row returns the user in UserColumns order.
func (u User) Row() []string {
	return []string{u.CreatedAt, u.Followers, u.Favourites, u.Location, u.UserID}
}

// UserFromRow builds a User from a UserColumns-ordered row.
func UserFromRow(row []string) (User, error) {
	if len(row) != len(UserColumns) {
		return User{}, malformed("expected %d user fields, got %d", len(UserColumns), len(row))
	}
	return User{
		CreatedAt:  row[0],
		Followers:  row[1],
		Favourites: row[2],
		Location:   row[3],
		UserID:     row[4],
	}, nil
}
