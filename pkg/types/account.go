package types

// Account identifies one tracked trader and carries the exchange credentials
// used to sign requests on their behalf. The core receives accounts by value
// each poll cycle; credential storage belongs to the account store.
type Account struct {
	ID        string `json:"account_id"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
}
