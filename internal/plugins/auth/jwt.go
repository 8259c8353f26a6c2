package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// DefaultIssuer 是签发令牌的 iss。
const DefaultIssuer = "restheart"

// Claims 是令牌携带的声明。Generation 与账号当前的代数不一致时令牌失效。
type Claims struct {
	Roles      []string `json:"roles,omitempty"`
	Generation uint64   `json:"gen"`
	jwt.RegisteredClaims
}

// JWTTokenManager 签发 HS256 令牌，并认证携带 Bearer 令牌的请求。
type JWTTokenManager struct {
	key    []byte
	issuer string
	ttl    time.Duration
	realm  string
	now    func() time.Time

	mu          sync.RWMutex
	generations map[string]uint64
}

// NewJWTTokenManager 创建令牌管理器，令牌默认有效期 15 分钟。
func NewJWTTokenManager() *JWTTokenManager {
	return &JWTTokenManager{
		issuer:      DefaultIssuer,
		ttl:         15 * time.Minute,
		realm:       DefaultRealm,
		now:         time.Now,
		generations: make(map[string]uint64),
	}
}

// Inject 接收签名密钥。
func (m *JWTTokenManager) Inject(ip plugin.InjectionPoint, value any) error {
	key, ok := value.([]byte)
	if !ok || len(key) == 0 {
		return fmt.Errorf("jwtTokenManager: %s does not provide a signing key", ip.Name)
	}
	m.key = key
	return nil
}

// Init 读取 ttl、issuer 与 realm 配置。
func (m *JWTTokenManager) Init(ctx *plugin.ExecutionContext) error {
	if raw, ok := ctx.Config["ttl"].(string); ok {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("jwtTokenManager: invalid ttl: %w", err)
		}
		if ttl <= 0 {
			return errors.New("jwtTokenManager: ttl must be positive")
		}
		m.ttl = ttl
	}
	if iss, ok := ctx.Config["issuer"].(string); ok && iss != "" {
		m.issuer = iss
	}
	if r, ok := ctx.Config["realm"].(string); ok && r != "" {
		m.realm = r
	}
	return nil
}

func (m *JWTTokenManager) Authenticate(ex *exchange.Exchange) (plugin.AuthOutcome, error) {
	if ex.Request() == nil {
		return plugin.NotAttempted, nil
	}
	scheme, token, ok := strings.Cut(ex.Request().Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return plugin.NotAttempted, nil
	}
	claims, err := m.parse(strings.TrimSpace(token))
	if err != nil {
		return plugin.NotAuthenticated, nil
	}
	ex.SetAccount(&exchange.Account{Name: claims.Subject, Roles: claims.Roles})
	return plugin.Authenticated, nil
}

func (m *JWTTokenManager) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token without subject")
	}
	if claims.Generation != m.generation(claims.Subject) {
		return nil, errors.New("token was invalidated")
	}
	return claims, nil
}

func (m *JWTTokenManager) Challenge(ex *exchange.Exchange) {
	ex.Header().Add("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", m.realm))
}

// Issue 实现 plugin.TokenManager。
func (m *JWTTokenManager) Issue(acc *exchange.Account) (string, time.Time, error) {
	if acc == nil || acc.Name == "" {
		return "", time.Time{}, errors.New("cannot issue a token without an account")
	}
	now := m.now()
	expires := now.Add(m.ttl)
	claims := Claims{
		Roles:      append([]string(nil), acc.Roles...),
		Generation: m.generation(acc.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   acc.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Invalidate 实现 plugin.TokenManager，使该账号此前签发的令牌全部失效。
func (m *JWTTokenManager) Invalidate(acc *exchange.Account) {
	if acc == nil {
		return
	}
	m.mu.Lock()
	m.generations[acc.Name]++
	m.mu.Unlock()
}

func (m *JWTTokenManager) generation(name string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generations[name]
}
