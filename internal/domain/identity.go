package domain

// Provider tags the identity provider a subject signed in with. The set is
// open; the constants below are only used for display.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderGitHub   Provider = "github"
	ProviderFacebook Provider = "facebook"
	ProviderManual   Provider = "manual"
)

func (p Provider) Known() bool {
	switch p {
	case ProviderGoogle, ProviderGitHub, ProviderFacebook, ProviderManual:
		return true
	}
	return false
}

// Identity is a verified subject returned by the identity verifier.
type Identity struct {
	SubjectID   string
	DisplayName string
	Email       string
	AvatarURL   string
	Issuer      string
	Provider    Provider
}
