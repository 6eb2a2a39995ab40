package media

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLiveKitConfig_Validate(t *testing.T) {
	assert.Error(t, LiveKitConfig{APISecret: testSecret}.Validate())
	assert.Error(t, LiveKitConfig{APIKey: "key", APISecret: "short"}.Validate())
	assert.NoError(t, LiveKitConfig{APIKey: "key", APISecret: testSecret}.Validate())
}

func TestMint_TokenCarriesRoomAndIdentity(t *testing.T) {
	m, err := NewLiveKitMinter(LiveKitConfig{APIKey: "devkey", APISecret: testSecret, TokenTTL: 10 * time.Minute})
	require.NoError(t, err)

	before := time.Now()
	cred, err := m.Mint(context.Background(), "channel_1700000000000_1_2", "2")
	require.NoError(t, err)
	require.NotEmpty(t, cred.Token)
	assert.WithinDuration(t, before.Add(10*time.Minute), cred.ExpiresAt, 5*time.Second)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(cred.Token, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)

	assert.Equal(t, "2", claims["sub"])
	assert.Equal(t, "devkey", claims["iss"])
	video, ok := claims["video"].(map[string]any)
	require.True(t, ok, "expected video grant, got %v", claims)
	assert.Equal(t, "channel_1700000000000_1_2", video["room"])
	assert.Equal(t, true, video["roomJoin"])
}

func TestMint_RejectsEmptyInputs(t *testing.T) {
	m, err := NewLiveKitMinter(LiveKitConfig{APIKey: "devkey", APISecret: testSecret})
	require.NoError(t, err)

	_, err = m.Mint(context.Background(), "", "2")
	assert.Error(t, err)
	_, err = m.Mint(context.Background(), "channel_1_1_2", "")
	assert.Error(t, err)
}
