package entities

// LoginState classifies the outcome PatchOrchestrator derives from an
// OauthLoginResult plus the installed game's patch status, before deciding
// whether to proceed straight to play or fall into a patch cycle.
type LoginState int

const (
	LoginOK LoginState = iota
	LoginNeedsPatchGame
	LoginNeedsPatchBoot
	LoginNoService
	LoginNoTerms
)

// LoginResult bundles the classified state with the raw OAuth result and the
// session unique id registered with the game-version endpoint.
type LoginResult struct {
	State    LoginState
	Oauth    OauthLoginResult
	UniqueID string
}
