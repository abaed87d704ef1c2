package models

// Cookie is one record of the persisted authentication-cookie snapshot.
// The layout matches browser cookie exports (Puppeteer / extension JSON);
// Expires is seconds since epoch, zero or negative for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}
