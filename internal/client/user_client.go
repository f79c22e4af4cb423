package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-service/internal/realtime"
)

// IdentityClient resolves websocket credentials to a user identity. Token
// validation goes through the auth service when one is configured, with a
// local JWT parse as fallback so the realtime layer survives auth-service
// outages. Missing profile fields are filled from the user service.
type IdentityClient struct {
	authServiceURL string
	userServiceURL string
	secretKey      string
	httpClient     *http.Client
	logger         *zap.Logger
}

func NewIdentityClient(authServiceURL, userServiceURL, secretKey string, logger *zap.Logger) *IdentityClient {
	return &IdentityClient{
		authServiceURL: authServiceURL,
		userServiceURL: userServiceURL,
		secretKey:      secretKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Verify implements realtime.IdentityVerifier.
func (c *IdentityClient) Verify(ctx context.Context, token string) (*realtime.Identity, error) {
	identity, err := c.verifyToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if identity.Username == "" && c.userServiceURL != "" {
		if info, err := c.fetchUserInfo(ctx, identity.UserID, token); err == nil {
			identity.Username = info.NickName
			if identity.Email == "" {
				identity.Email = info.Email
			}
		} else {
			c.logger.Debug("user info lookup failed", zap.String("userId", identity.UserID.String()), zap.Error(err))
		}
	}
	if identity.Username == "" {
		identity.Username = identity.UserID.String()[:8]
	}

	return identity, nil
}

func (c *IdentityClient) verifyToken(ctx context.Context, token string) (*realtime.Identity, error) {
	if c.authServiceURL != "" {
		identity, err := c.validateWithAuthService(ctx, token)
		if err == nil {
			return identity, nil
		}
		c.logger.Debug("auth service validation failed, falling back to local", zap.Error(err))
	}
	return c.validateLocally(token)
}

func (c *IdentityClient) validateWithAuthService(ctx context.Context, token string) (*realtime.Identity, error) {
	url := c.authServiceURL + "/api/auth/validate"

	reqBody, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("validation failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var result struct {
		UserID   string `json:"userId"`
		NickName string `json:"nickName"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(result.UserID)
	if err != nil {
		return nil, err
	}
	return &realtime.Identity{UserID: userID, Username: result.NickName, Email: result.Email}, nil
}

func (c *IdentityClient) validateLocally(tokenString string) (*realtime.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(c.secretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}

	var userIDStr string
	for _, key := range []string{"sub", "userId", "user_id"} {
		if val, exists := claims[key]; exists {
			if s, ok := val.(string); ok {
				userIDStr = s
				break
			}
		}
	}
	if userIDStr == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, err
	}

	identity := &realtime.Identity{UserID: userID}
	if username, ok := claims["username"].(string); ok {
		identity.Username = username
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	return identity, nil
}

type userInfo struct {
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	NickName        string `json:"nickName,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

func (c *IdentityClient) fetchUserInfo(ctx context.Context, userID uuid.UUID, token string) (*userInfo, error) {
	url := fmt.Sprintf("%s/users/%s", c.userServiceURL, userID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get user info failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var result userInfo
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateToken implements the middleware TokenValidator for the REST
// management surface.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	identity, err := c.verifyToken(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	return identity.UserID, nil
}
