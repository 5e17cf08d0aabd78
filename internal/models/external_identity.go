package models

// Supported federated login providers.
const (
	ProviderGoogle    = "google"
	ProviderGitHub    = "github"
	ProviderFacebook  = "facebook"
	ProviderVKontakte = "vkontakte"
	ProviderYandex    = "yandex"
	ProviderMailru    = "mailru"
)

// ExternalIdentity is the normalized profile returned by an OAuth provider
// after a successful code exchange.
type ExternalIdentity struct {
	Provider     string
	ExternalID   string
	Email        string
	DisplayName  string
	AvatarURL    string
	AccessToken  string
	RefreshToken string
}
