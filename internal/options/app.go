// Package options provides configuration parsing and environment variable handling
// for the identity and authentication provider daemon.
package options

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TLSPolicy enumerates the directory TLS certificate policy knobs this core understands.
type TLSPolicy int

// TLS certificate policies, ordered from least to most strict.
const (
	TLSPolicyNever TLSPolicy = iota
	TLSPolicyAllow
	TLSPolicyTry
	TLSPolicyDemand
	TLSPolicyHard
)

// ParseTLSPolicy maps the five config-database enum values onto a TLSPolicy.
// Unknown values fail, matching the spec's "unknown values fail init" rule.
func ParseTLSPolicy(s string) (TLSPolicy, error) {
	switch s {
	case "never":
		return TLSPolicyNever, nil
	case "allow":
		return TLSPolicyAllow, nil
	case "try":
		return TLSPolicyTry, nil
	case "demand":
		return TLSPolicyDemand, nil
	case "hard":
		return TLSPolicyHard, nil
	default:
		return 0, ValidationError{Field: "tls_reqcert", Message: fmt.Sprintf("unknown TLS policy %q", s)}
	}
}

func (p TLSPolicy) String() string {
	switch p {
	case TLSPolicyNever:
		return "never"
	case TLSPolicyAllow:
		return "allow"
	case TLSPolicyTry:
		return "try"
	case TLSPolicyDemand:
		return "demand"
	case TLSPolicyHard:
		return "hard"
	default:
		return "unknown"
	}
}

// AttrMap maps logical field names (name, uid, gid, modstamp, ...) to the directory
// attribute name that carries them, plus the object class used to scope the search.
type AttrMap struct {
	ObjectClass string
	Attrs       map[string]string
}

// Opts holds all configuration for the identity and authentication provider daemon.
type Opts struct {
	LogLevel   zerolog.Level
	ListenAddr string

	DirectoryServer string
	BaseDN          string
	TLSReqCert      TLSPolicy

	DefaultBindDN      string
	DefaultAuthtokType string
	DefaultAuthtok     string

	OfflineTimeout     time.Duration
	EnumRefreshTimeout time.Duration
	Enumerate          bool
	CacheCredentials   bool

	UserAttrMap  AttrMap
	GroupAttrMap AttrMap

	KDCAddr           string
	Realm             string
	TrySimpleUPN      bool
	ChangePwPrincipal string

	LocalStorePath   string
	HelperBinaryPath string
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

func validateRequired(name string, value *string) error {
	if *value == "" {
		return ValidationError{Field: name, Message: "this option is required"}
	}

	return nil
}

func envStringOrDefault(name, d string) string {
	if v, exists := os.LookupEnv(name); exists && v != "" {
		return v
	}

	return d
}

func envDurationOrDefault(name string, d time.Duration) (time.Duration, error) {
	raw := envStringOrDefault(name, d.String())

	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, ValidationError{
			Field:   name,
			Message: fmt.Sprintf("could not parse %q as duration: %v", raw, err),
		}
	}

	return v, nil
}

func envLogLevelOrDefault(name string, d zerolog.Level) (string, error) {
	raw := envStringOrDefault(name, d.String())

	if _, err := zerolog.ParseLevel(raw); err != nil {
		return "", ValidationError{
			Field:   name,
			Message: fmt.Sprintf("could not parse %q as log level: %v", raw, err),
		}
	}

	return raw, nil
}

func envBoolOrDefault(name string, d bool) (bool, error) {
	raw := envStringOrDefault(name, strconv.FormatBool(d))

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, ValidationError{
			Field:   name,
			Message: fmt.Sprintf("could not parse %q as bool: %v", raw, err),
		}
	}

	return v, nil
}

// envAttrMapOrDefault parses a comma-separated "logicalName=directoryAttr" list, e.g.
// "name=uid,uid=uidNumber,modstamp=modifyTimestamp".
func envAttrMapOrDefault(name, d string) (map[string]string, error) {
	raw := envStringOrDefault(name, d)
	out := make(map[string]string)

	if raw == "" {
		return out, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("could not parse %q as an attribute map entry", pair),
			}
		}

		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	return out, nil
}

// normalizeChangePwPrincipal appends "@<realm>" when the principal carries no realm suffix.
func normalizeChangePwPrincipal(principal, realm string) string {
	if principal == "" {
		principal = "kadmin/changepw"
	}

	if !strings.Contains(principal, "@") && realm != "" {
		principal += "@" + realm
	}

	return principal
}

// Parse parses command line flags and environment variables to build application configuration.
// It loads from .env files, parses flags, and validates required settings.
func Parse() (*Opts, error) {
	for _, envFile := range []string{".env.local", ".env"} {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("could not load .env file")
		}
	}

	logLevelStr, err := envLogLevelOrDefault("LOG_LEVEL", zerolog.InfoLevel)
	if err != nil {
		return nil, err
	}

	offlineTimeout, err := envDurationOrDefault("OFFLINE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	enumRefreshTimeout, err := envDurationOrDefault("ENUM_REFRESH_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	enumerate, err := envBoolOrDefault("ENUMERATE", true)
	if err != nil {
		return nil, err
	}

	cacheCredentials, err := envBoolOrDefault("CACHE_CREDENTIALS", false)
	if err != nil {
		return nil, err
	}

	trySimpleUPN, err := envBoolOrDefault("KRB5_TRY_SIMPLE_UPN", false)
	if err != nil {
		return nil, err
	}

	userAttrs, err := envAttrMapOrDefault("USER_ATTR_MAP", "name=uid,uid=uidNumber,gid=gidNumber,modstamp=modifyTimestamp,upn=userPrincipalName")
	if err != nil {
		return nil, err
	}

	groupAttrs, err := envAttrMapOrDefault("GROUP_ATTR_MAP", "name=cn,gid=gidNumber,modstamp=modifyTimestamp")
	if err != nil {
		return nil, err
	}

	var (
		fLogLevel = flag.String("log-level", logLevelStr,
			"Log level. Valid values are: trace, debug, info, warn, error, fatal, panic.")
		fListenAddr = flag.String("listen-addr", envStringOrDefault("LISTEN_ADDR", ":3000"),
			"Address the debug/health status server listens on.")

		fDirectoryServer = flag.String("directory-server", envStringOrDefault("DIRECTORY_SERVER", ""),
			"Directory server URI, has to begin with `ldap://` or `ldaps://`.")
		fBaseDN = flag.String("base-dn", envStringOrDefault("BASE_DN", ""), "Base DN of the directory.")
		fTLSReqCert = flag.String("tls-reqcert", envStringOrDefault("TLS_REQCERT", "try"),
			"Directory TLS certificate policy: never, allow, try, demand, or hard.")

		fDefaultBindDN = flag.String("default-bind-dn", envStringOrDefault("DEFAULT_BIND_DN", ""),
			"DN used to bind for enumeration and ID lookups.")
		fDefaultAuthtokType = flag.String("default-authtok-type", envStringOrDefault("DEFAULT_AUTHTOK_TYPE", "password"),
			"Credential type for the default bind (currently only \"password\").")
		fDefaultAuthtok = flag.String("default-authtok", envStringOrDefault("DEFAULT_AUTHTOK", ""),
			"Credential used for the default bind.")

		fUserObjectClass = flag.String("user-object-class", envStringOrDefault("USER_OBJECT_CLASS", "posixAccount"),
			"objectClass used to scope user searches.")
		fGroupObjectClass = flag.String("group-object-class", envStringOrDefault("GROUP_OBJECT_CLASS", "posixGroup"),
			"objectClass used to scope group searches.")

		fKDCAddr = flag.String("krb5-kdc", envStringOrDefault("KRB5_KDC", ""), "Kerberos KDC address.")
		fRealm   = flag.String("krb5-realm", envStringOrDefault("KRB5_REALM", ""), "Kerberos realm.")
		fChangePwPrincipal = flag.String("krb5-changepw-principal", envStringOrDefault("KRB5_CHANGEPW_PRINCIPAL", ""),
			"Kerberos kadmin change-password principal.")

		fLocalStorePath = flag.String("local-store-path", envStringOrDefault("LOCAL_STORE_PATH", "dirauthd.bbolt"),
			"Path to the local store's bbolt database file.")
		fHelperBinaryPath = flag.String("helper-binary-path", envStringOrDefault("HELPER_BINARY_PATH", "krb5helper"),
			"Path to the krb5helper binary the child supervisor execs.")
	)

	if !flag.Parsed() {
		flag.Parse()
	}

	logLevel, err := zerolog.ParseLevel(*fLogLevel)
	if err != nil {
		return nil, ValidationError{Field: "log-level", Message: err.Error()}
	}

	tlsReqCert, err := ParseTLSPolicy(*fTLSReqCert)
	if err != nil {
		return nil, err
	}

	if err := validateRequired("directory-server", fDirectoryServer); err != nil {
		return nil, err
	}
	if err := validateRequired("base-dn", fBaseDN); err != nil {
		return nil, err
	}
	if err := validateRequired("default-bind-dn", fDefaultBindDN); err != nil {
		return nil, err
	}

	changePwPrincipal := normalizeChangePwPrincipal(*fChangePwPrincipal, *fRealm)

	return &Opts{
		LogLevel:   logLevel,
		ListenAddr: *fListenAddr,

		DirectoryServer: *fDirectoryServer,
		BaseDN:          *fBaseDN,
		TLSReqCert:      tlsReqCert,

		DefaultBindDN:      *fDefaultBindDN,
		DefaultAuthtokType: *fDefaultAuthtokType,
		DefaultAuthtok:     *fDefaultAuthtok,

		OfflineTimeout:     offlineTimeout,
		EnumRefreshTimeout: enumRefreshTimeout,
		Enumerate:          enumerate,
		CacheCredentials:   cacheCredentials,

		UserAttrMap:  AttrMap{ObjectClass: *fUserObjectClass, Attrs: userAttrs},
		GroupAttrMap: AttrMap{ObjectClass: *fGroupObjectClass, Attrs: groupAttrs},

		KDCAddr:           *fKDCAddr,
		Realm:             *fRealm,
		TrySimpleUPN:      trySimpleUPN,
		ChangePwPrincipal: changePwPrincipal,

		LocalStorePath:   *fLocalStorePath,
		HelperBinaryPath: *fHelperBinaryPath,
	}, nil
}
