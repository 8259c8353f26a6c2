package security

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// 认证子系统的通用错误。
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// User 是用户文件中的一条账号声明。Password 可以是明文或 bcrypt 哈希。
type User struct {
	Name       string         `yaml:"name"`
	Password   string         `yaml:"password"`
	Roles      []string       `yaml:"roles"`
	Disabled   bool           `yaml:"disabled"`
	Properties map[string]any `yaml:"properties"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

type entry struct {
	hash    []byte
	account exchange.Account
	off     bool
}

// Realm 是基于内存的账号目录，加载时将明文密码统一转换为 bcrypt 哈希。
type Realm struct {
	mu    sync.RWMutex
	users map[string]*entry
	cost  int
}

// NewRealm 使用给定账号初始化目录，重复的用户名只保留第一条。
func NewRealm(users []User) (*Realm, error) {
	r := &Realm{users: make(map[string]*entry), cost: bcrypt.DefaultCost}
	for _, u := range users {
		if err := r.add(u); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadRealm 从 YAML 文件加载账号。
func LoadRealm(path string) (*Realm, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var file usersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshal users file %s: %w", path, err)
	}
	return NewRealm(file.Users)
}

func (r *Realm) add(u User) error {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return errors.New("user name cannot be empty")
	}
	if _, exists := r.users[name]; exists {
		return nil
	}
	if strings.TrimSpace(u.Password) == "" {
		return fmt.Errorf("user %s: password cannot be empty", name)
	}
	hash := []byte(u.Password)
	if _, err := bcrypt.Cost(hash); err != nil {
		hash, err = bcrypt.GenerateFromPassword([]byte(u.Password), r.cost)
		if err != nil {
			return fmt.Errorf("user %s: hash password: %w", name, err)
		}
	}
	r.users[name] = &entry{
		hash: hash,
		off:  u.Disabled,
		account: exchange.Account{
			Name:       name,
			Roles:      dedupeStrings(u.Roles),
			Properties: u.Properties,
		},
	}
	return nil
}

// Verify 校验用户名与密码，成功时返回账号副本。
func (r *Realm) Verify(name, password string) (*exchange.Account, error) {
	r.mu.RLock()
	e, ok := r.users[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		// 与存在账号的路径保持相近耗时。
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrUnknownAccount
	}
	if e.off {
		return nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword(e.hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	acc := e.account
	acc.Roles = append([]string(nil), e.account.Roles...)
	return &acc, nil
}

// Lookup 返回账号副本，不校验密码。
func (r *Realm) Lookup(name string) (*exchange.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[strings.TrimSpace(name)]
	if !ok || e.off {
		return nil, false
	}
	acc := e.account
	acc.Roles = append([]string(nil), e.account.Roles...)
	return &acc, true
}

// Names 返回按字典序排列的用户名。
func (r *Realm) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Uses 报告 name 的密码是否仍为 password，用于检测默认口令。
func (r *Realm) Uses(name, password string) bool {
	r.mu.RLock()
	e, ok := r.users[name]
	r.mu.RUnlock()
	return ok && bcrypt.CompareHashAndPassword(e.hash, []byte(password)) == nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("restheart"), bcrypt.MinCost)

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
