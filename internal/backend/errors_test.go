package backend

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"detail", http.StatusUnauthorized, `{"detail":"Given token not valid","code":"token_not_valid"}`, "token_not_valid", "Given token not valid"},
		{"message", http.StatusBadRequest, `{"message":"Producto sin stock"}`, "validation_error", "Producto sin stock"},
		{"error", http.StatusNotFound, `{"error":"No encontrado"}`, "not_found", "No encontrado"},
		{"detail list", http.StatusBadRequest, `{"detail":["a","b"]}`, "validation_error", "a b"},
		{"fields", http.StatusBadRequest, `{"email":["Ya existe"],"password":["Muy corta"]}`, "validation_error", "email: Ya existe; password: Muy corta"},
		{"plain text", http.StatusBadGateway, `upstream down`, "server_error", "upstream down"},
		{"empty", http.StatusServiceUnavailable, ``, "server_error", "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseError(tt.status, []byte(tt.body))
			apiErr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestParseError_FieldsKept(t *testing.T) {
	err := parseError(http.StatusBadRequest, []byte(`{"cantidad":["Debe ser positivo"]}`))
	apiErr, _ := AsError(err)
	assert.Equal(t, map[string][]string{"cantidad": {"Debe ser positivo"}}, apiErr.Fields)
}

func TestErrorPredicatesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("sync cart: %w", &Error{StatusCode: http.StatusUnauthorized, Message: "expired"})
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsNotFound(err))

	assert.True(t, IsNotFound(&Error{StatusCode: http.StatusNotFound}))
	assert.Equal(t, "not_found: gone", (&Error{Code: "not_found", Message: "gone"}).Error())
	assert.Equal(t, "gone", (&Error{Message: "gone"}).Error())
}
