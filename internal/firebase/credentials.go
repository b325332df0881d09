package firebase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrNoCredentials is returned when no Firebase credentials are present
// in the environment. The caller keeps the HTTP surface running and
// disables the event core.
var ErrNoCredentials = errors.New("no firebase credentials configured")

// ServiceAccount holds the fields of a Firebase service-account document
// the relay actually uses.
type ServiceAccount struct {
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// serviceAccountSchema rejects malformed credential documents up front
// instead of failing later with an opaque signing or auth error.
const serviceAccountSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["project_id", "private_key", "client_email"],
	"properties": {
		"type": {"type": "string"},
		"project_id": {"type": "string", "minLength": 1},
		"private_key_id": {"type": "string"},
		"private_key": {"type": "string", "pattern": "-----BEGIN [A-Z ]*PRIVATE KEY-----"},
		"client_email": {"type": "string", "minLength": 3, "pattern": "@"},
		"token_uri": {"type": "string"}
	}
}`

// DatabaseURL returns the default realtime database endpoint for the
// account's project.
func (a ServiceAccount) DatabaseURL() string {
	return fmt.Sprintf("https://%s-default-rtdb.firebaseio.com", a.ProjectID)
}

// LoadServiceAccountFromEnv builds a ServiceAccount from either the
// FIREBASE_SERVICE_ACCOUNT JSON blob or the individual
// FIREBASE_PROJECT_ID / FIREBASE_CLIENT_EMAIL / FIREBASE_PRIVATE_KEY
// variables. Returns ErrNoCredentials when neither form is present.
func LoadServiceAccountFromEnv() (ServiceAccount, error) {
	if raw := strings.TrimSpace(os.Getenv("FIREBASE_SERVICE_ACCOUNT")); raw != "" {
		return ParseServiceAccount([]byte(raw))
	}

	projectID := strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))
	clientEmail := strings.TrimSpace(os.Getenv("FIREBASE_CLIENT_EMAIL"))
	privateKey := os.Getenv("FIREBASE_PRIVATE_KEY")
	if projectID == "" || clientEmail == "" || strings.TrimSpace(privateKey) == "" {
		return ServiceAccount{}, ErrNoCredentials
	}
	account := ServiceAccount{
		ProjectID: projectID,
		// Deployment dashboards store the PEM with literal \n sequences.
		PrivateKey:  strings.ReplaceAll(privateKey, `\n`, "\n"),
		ClientEmail: clientEmail,
		TokenURI:    defaultTokenURI,
	}
	return account, validateServiceAccount(account)
}

// ParseServiceAccount decodes and validates a service-account JSON
// document.
func ParseServiceAccount(data []byte) (ServiceAccount, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("invalid service account json: %w", err)
	}
	if err := compiledServiceAccountSchema().Validate(instance); err != nil {
		return ServiceAccount{}, fmt.Errorf("invalid service account document: %w", err)
	}

	var account ServiceAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return ServiceAccount{}, fmt.Errorf("invalid service account json: %w", err)
	}
	account.PrivateKey = strings.ReplaceAll(account.PrivateKey, `\n`, "\n")
	if account.TokenURI == "" {
		account.TokenURI = defaultTokenURI
	}
	return account, nil
}

func validateServiceAccount(account ServiceAccount) error {
	doc, err := json.Marshal(account)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return err
	}
	if err := compiledServiceAccountSchema().Validate(instance); err != nil {
		return fmt.Errorf("invalid service account document: %w", err)
	}
	return nil
}

var (
	schemaOnce    sync.Once
	accountSchema *jsonschema.Schema
)

func compiledServiceAccountSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(serviceAccountSchema))
		if err != nil {
			panic(err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("service-account.schema.json", doc); err != nil {
			panic(err)
		}
		accountSchema, err = compiler.Compile("service-account.schema.json")
		if err != nil {
			panic(err)
		}
	})
	return accountSchema
}
