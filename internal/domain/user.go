package domain

// User is the profile returned with login, registration and /auth/usuarios/me/.
type User struct {
	ID           int64  `json:"id_usuario"`
	Email        string `json:"email"`
	FirstName    string `json:"nombre"`
	LastName     string `json:"apellido"`
	Phone        string `json:"telefono,omitempty"`
	Address      string `json:"direccion,omitempty"`
	Status       string `json:"estado,omitempty"`
	RegisteredAt string `json:"fecha_registro,omitempty"`
	LastLoginAt  string `json:"ultimo_login,omitempty"`
	Role         string `json:"rol,omitempty"`
}

// Credentials are the login inputs.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration are the sign-up inputs.
type Registration struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	FirstName       string `json:"nombre" validate:"required"`
	LastName        string `json:"apellido" validate:"required"`
	Phone           string `json:"telefono,omitempty"`
	Address         string `json:"direccion,omitempty"`
}
