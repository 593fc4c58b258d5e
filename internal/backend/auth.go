package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const (
	pathLogin       = "auth/login/"
	pathRegister    = "auth/registro/"
	pathRefresh     = "auth/token/refresh/"
	pathLogout      = "auth/logout/"
	pathCurrentUser = "auth/usuarios/me/"
)

// AuthResult is the answer to login and registration.
type AuthResult struct {
	Session domain.Session
	User    domain.User
}

// userDTO covers both profile shapes: "id" in auth responses, "id_usuario" in /me.
type userDTO struct {
	ID            int64  `json:"id"`
	IDUsuario     int64  `json:"id_usuario"`
	Email         string `json:"email"`
	Nombre        string `json:"nombre"`
	Apellido      string `json:"apellido"`
	Telefono      string `json:"telefono"`
	Direccion     string `json:"direccion"`
	Estado        string `json:"estado"`
	FechaRegistro string `json:"fecha_registro"`
	UltimoLogin   string `json:"ultimo_login"`
	Rol           string `json:"rol"`
}

func (u userDTO) toDomain() domain.User {
	id := u.IDUsuario
	if id == 0 {
		id = u.ID
	}
	return domain.User{
		ID:           id,
		Email:        u.Email,
		FirstName:    u.Nombre,
		LastName:     u.Apellido,
		Phone:        u.Telefono,
		Address:      u.Direccion,
		Status:       u.Estado,
		RegisteredAt: u.FechaRegistro,
		LastLoginAt:  u.UltimoLogin,
		Role:         u.Rol,
	}
}

type authResponse struct {
	Access  string   `json:"access"`
	Refresh string   `json:"refresh"`
	Usuario *userDTO `json:"usuario"`
}

var ErrMissingToken = errors.New("response carries no access token")

func (r authResponse) result() (AuthResult, error) {
	if r.Access == "" {
		return AuthResult{}, ErrMissingToken
	}
	out := AuthResult{Session: domain.Session{AccessToken: r.Access, RefreshToken: r.Refresh}}
	if r.Usuario != nil {
		out.User = r.Usuario.toDomain()
	}
	return out, nil
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (AuthResult, error) {
	var resp authResponse
	if err := c.doRequest(ctx, c.anonClient, c.breaker, "login", http.MethodPost, pathLogin, creds, &resp); err != nil {
		return AuthResult{}, err
	}
	return resp.result()
}

func (c *Client) Register(ctx context.Context, reg domain.Registration) (AuthResult, error) {
	var resp authResponse
	if err := c.doRequest(ctx, c.anonClient, c.breaker, "register", http.MethodPost, pathRegister, reg, &resp); err != nil {
		return AuthResult{}, err
	}
	return resp.result()
}

// RefreshAccess trades a refresh token for a new access token.
// It bypasses the breaker: a tripped breaker must not end a session.
func (c *Client) RefreshAccess(ctx context.Context, refreshToken string) (domain.Session, error) {
	var resp authResponse
	body := map[string]string{"refresh": refreshToken}
	if err := c.doRequest(ctx, c.anonClient, nil, "refresh", http.MethodPost, pathRefresh, body, &resp); err != nil {
		return domain.Session{}, err
	}
	if resp.Access == "" {
		return domain.Session{}, ErrMissingToken
	}
	return domain.Session{AccessToken: resp.Access, RefreshToken: resp.Refresh}, nil
}

// Logout revokes refreshToken on the server. Any answer below 500 counts as done.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	body := map[string]string{"refresh": refreshToken}
	err := c.doRequest(ctx, c.anonClient, c.breaker, "logout", http.MethodPost, pathLogout, body, nil, withBearer(accessToken))
	if apiErr, ok := AsError(err); ok && !apiErr.IsServerError() {
		return nil
	}
	return err
}

func (c *Client) CurrentUser(ctx context.Context) (domain.User, error) {
	var u userDTO
	if err := c.get(ctx, "current_user", pathCurrentUser, &u); err != nil {
		return domain.User{}, err
	}
	return u.toDomain(), nil
}
