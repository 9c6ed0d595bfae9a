package auth

import (
	"testing"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUserAgent(t *testing.T) {
	ua := generateUserAgent()
	assert.Contains(t, ua, "SQEXAuthor/2.0.0")
	assert.Contains(t, ua, "Windows 6.2")
}

func TestMakeComputerIDDeterministicAndShape(t *testing.T) {
	id1 := makeComputerID()
	id2 := makeComputerID()
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 10)
	for _, r := range id1 {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}

func TestParseLoginResponseSuccess(t *testing.T) {
	c := &Client{Fields: DefaultFieldIndices}
	body := `window.external.user("login=auth,ok,sid,SESSION123,terms,1,region,0,etc,0,playable,1,ps3pkg,0,maxex,5");`

	result, err := c.parseLoginResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "SESSION123", result.SessionID)
	assert.Equal(t, int32(0), result.RegionCode)
	assert.True(t, result.Playable)
	assert.True(t, result.TermsAccepted)
	assert.Equal(t, uint32(5), result.MaxExpansion)
}

func TestParseLoginResponseTooFewFields(t *testing.T) {
	c := &Client{Fields: DefaultFieldIndices}
	body := `window.external.user("login=auth,ok,1,2,3,4,5,6,7,8");`

	_, err := c.parseLoginResponse(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidServerResponse)
}

func TestParseLoginResponseFailureClassification(t *testing.T) {
	c := &Client{Fields: DefaultFieldIndices}

	cases := []struct {
		body string
		kind coreerr.Kind
	}{
		{`window.external.user("login=auth,ng,err,Your id or password is incorrect.");`, coreerr.KindOauthInvalidCredentials},
		{`window.external.user("login=auth,ng,err,Your one-time password is invalid.");`, coreerr.KindOauthInvalidOtp},
		{`window.external.user("login=auth,ng,err,This account has been locked.");`, coreerr.KindOauthAccountLocked},
		{`window.external.user("login=auth,ng,err,Servers are under maintenance.");`, coreerr.KindOauthMaintenanceMode},
		{`window.external.user("login=auth,ng,err,Too many attempts.");`, coreerr.KindOauthRateLimited},
		{`window.external.user("login=auth,ng,err,Something else entirely.");`, coreerr.KindOauthUnknown},
	}
	for _, c2 := range cases {
		_, err := c.parseLoginResponse(c2.body)
		require.Error(t, err)
		assert.Equal(t, c2.kind, coreerr.Classify(err))
	}
}
