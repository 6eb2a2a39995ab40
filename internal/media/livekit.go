// Package media mints access credentials for the external RTC provider.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chattrix-calls/internal/calls"

	"github.com/livekit/protocol/auth"
)

const DefaultTokenTTL = time.Hour

// minSecretLen matches the HS256 key size the provider's signer requires.
const minSecretLen = 32

type LiveKitConfig struct {
	ServerURL string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

func (c LiveKitConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("livekit api key is required")
	}
	if len(c.APISecret) < minSecretLen {
		return fmt.Errorf("livekit api secret must be at least %d characters", minSecretLen)
	}
	return nil
}

// LiveKitMinter issues room-join tokens where the room is the call's channel id
// and the identity is the participant's user id.
type LiveKitMinter struct {
	cfg   LiveKitConfig
	clock func() time.Time
}

func NewLiveKitMinter(cfg LiveKitConfig) (*LiveKitMinter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &LiveKitMinter{cfg: cfg, clock: time.Now}, nil
}

func (m *LiveKitMinter) Mint(ctx context.Context, channelID, participantID string) (calls.Credential, error) {
	if err := ctx.Err(); err != nil {
		return calls.Credential{}, err
	}
	if channelID == "" || participantID == "" {
		return calls.Credential{}, errors.New("media: channel and participant are required")
	}

	canPublish := true
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         channelID,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	expires := m.clock().Add(m.cfg.TokenTTL)
	at := auth.NewAccessToken(m.cfg.APIKey, m.cfg.APISecret)
	at.SetVideoGrant(grant).
		SetIdentity(participantID).
		SetValidFor(m.cfg.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return calls.Credential{}, fmt.Errorf("media: sign token: %w", err)
	}
	return calls.Credential{Token: token, ExpiresAt: expires.UTC()}, nil
}

// ServerURL is handed to clients together with the token.
func (m *LiveKitMinter) ServerURL() string { return m.cfg.ServerURL }
