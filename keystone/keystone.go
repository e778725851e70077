// Package keystone derives the cloud provider identifier for a result set,
// either from the identity service's catalog or from the identity endpoint
// itself.
package keystone

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Auth carries everything needed to request an identity token.
type Auth struct {
	AuthURL     string
	Version     string // "v2" or "v3"
	Username    string
	Password    string
	ProjectName string
	DomainName  string
}

type account struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ProjectName string `yaml:"project_name"`
	TenantName  string `yaml:"tenant_name"`
	DomainName  string `yaml:"domain_name"`
}

// LoadAuth reads identity credentials from a Tempest configuration file.
// Credentials come from the configured test accounts file when one is set,
// from the identity section otherwise.
func LoadAuth(confPath string) (*Auth, error) {
	cfg, err := ini.Load(confPath)
	if err != nil {
		return nil, fmt.Errorf("loading tempest configuration: %w", err)
	}

	identity := cfg.Section("identity")
	auth := &Auth{
		Version:    identity.Key("auth_version").MustString("v3"),
		DomainName: identity.Key("domain_name").MustString("Default"),
	}
	if auth.Version == "v3" {
		auth.AuthURL = identity.Key("uri_v3").String()
	} else {
		auth.AuthURL = identity.Key("uri").String()
	}
	if auth.AuthURL == "" {
		return nil, fmt.Errorf("no identity uri for auth version %s in %s", auth.Version, confPath)
	}

	if accountsFile := cfg.Section("auth").Key("test_accounts_file").String(); accountsFile != "" {
		if err := loadAccount(accountsFile, auth); err != nil {
			return nil, err
		}
	} else {
		auth.Username = identity.Key("username").String()
		auth.Password = identity.Key("password").String()
		auth.ProjectName = identity.Key("project_name").MustString(identity.Key("tenant_name").String())
	}
	if auth.Username == "" || auth.Password == "" {
		return nil, fmt.Errorf("no identity credentials in %s", confPath)
	}
	return auth, nil
}

// loadAccount fills auth from the first entry of a Tempest accounts file.
func loadAccount(path string, auth *Auth) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("loading accounts file: %w", err)
	}
	var accounts []account
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("parsing accounts file %s: %w", path, err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("accounts file %s holds no accounts", path)
	}
	acct := accounts[0]
	auth.Username = acct.Username
	auth.Password = acct.Password
	auth.ProjectName = acct.ProjectName
	if auth.ProjectName == "" {
		auth.ProjectName = acct.TenantName
	}
	if acct.DomainName != "" {
		auth.DomainName = acct.DomainName
	}
	return nil
}

// Client talks to the identity service.
type Client struct {
	http *retryablehttp.Client
	log  *slog.Logger
}

// NewClient builds an identity client. Insecure skips TLS verification for
// clouds running with self-signed certificates.
func NewClient(insecure bool, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	if insecure {
		client.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{http: client, log: log}
}

// CPID requests a token and returns the identity service's identifier from
// the returned service catalog.
func (c *Client) CPID(ctx context.Context, auth *Auth) (string, error) {
	if auth.Version == "v3" {
		return c.cpidV3(ctx, auth)
	}
	return c.cpidV2(ctx, auth)
}

func (c *Client) cpidV2(ctx context.Context, auth *Auth) (string, error) {
	body := map[string]any{
		"auth": map[string]any{
			"passwordCredentials": map[string]string{
				"username": auth.Username,
				"password": auth.Password,
			},
			"tenantName": auth.ProjectName,
		},
	}
	var reply struct {
		Access struct {
			ServiceCatalog []struct {
				Type      string `json:"type"`
				Endpoints []struct {
					ID string `json:"id"`
				} `json:"endpoints"`
			} `json:"serviceCatalog"`
		} `json:"access"`
	}
	if err := c.post(ctx, auth.AuthURL+"/tokens", body, []int{http.StatusOK, http.StatusNonAuthoritativeInfo}, &reply); err != nil {
		return "", err
	}
	for _, svc := range reply.Access.ServiceCatalog {
		if svc.Type == "identity" && len(svc.Endpoints) > 0 {
			return svc.Endpoints[0].ID, nil
		}
	}
	return "", fmt.Errorf("no identity endpoint in service catalog")
}

func (c *Client) cpidV3(ctx context.Context, auth *Auth) (string, error) {
	body := map[string]any{
		"auth": map[string]any{
			"identity": map[string]any{
				"methods": []string{"password"},
				"password": map[string]any{
					"user": map[string]any{
						"name":     auth.Username,
						"password": auth.Password,
						"domain":   map[string]string{"name": auth.DomainName},
					},
				},
			},
		},
	}
	var reply struct {
		Token struct {
			Catalog []struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"catalog"`
		} `json:"token"`
	}
	if err := c.post(ctx, auth.AuthURL+"/auth/tokens", body, []int{http.StatusCreated}, &reply); err != nil {
		return "", err
	}
	for _, svc := range reply.Token.Catalog {
		if svc.Type == "identity" && svc.ID != "" {
			return svc.ID, nil
		}
	}
	return "", fmt.Errorf("no identity service in token catalog")
}

func (c *Client) post(ctx context.Context, endpoint string, body any, accept []int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding token request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("Requesting identity token", "endpoint", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting token from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("identity service returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding token reply: %w", err)
	}
	return nil
}

// CPIDFromEndpoint derives a stable identifier from the identity endpoint
// when the service catalog is unavailable: the hex md5 of the endpoint host.
func CPIDFromEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing identity endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("identity endpoint %q is not an http(s) url", endpoint)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("identity endpoint %q has no host", endpoint)
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(u.Hostname()))), nil
}
