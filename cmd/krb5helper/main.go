// Package main implements the privilege-separated helper child that performs the
// actual Kerberos conversation on behalf of the daemon. It is invoked with a
// dropped-privilege credential, reads one §6.2 request frame from stdin, and
// writes exactly one reply frame to stdout.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/kadmin"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netresearch/dirauthd/internal/authchild"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	reply := run()

	if _, err := os.Stdout.Write(authchild.EncodeReply(reply)); err != nil {
		log.Fatal().Err(err).Msg("write reply frame")
	}
}

// run reads the request frame from stdin, performs the Kerberos exchange, and
// returns the reply frame to emit. It never panics: every failure path is
// mapped to a PamStatus so the parent always receives a well-formed reply.
func run() authchild.Reply {
	raw, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return systemError(fmt.Errorf("read request: %w", err))
	}

	req, err := authchild.DecodeRequest(raw)
	if err != nil {
		return systemError(fmt.Errorf("decode request: %w", err))
	}

	realm := os.Getenv("SSSD_REALM")
	kdcAddr := os.Getenv("SSSD_KDC")
	changePwPrincipal := os.Getenv("SSSD_KRB5_CHANGEPW_PRINCIPLE")

	if realm == "" || kdcAddr == "" {
		return systemError(fmt.Errorf("missing SSSD_REALM/SSSD_KDC in environment"))
	}

	cfg, err := buildConfig(realm, kdcAddr)
	if err != nil {
		return systemError(fmt.Errorf("build krb5 config: %w", err))
	}

	switch req.Cmd {
	case authchild.CmdAuthenticate:
		return authenticate(cfg, req)
	case authchild.CmdChauthtok:
		return chauthtok(cfg, req, changePwPrincipal)
	default:
		return systemError(fmt.Errorf("unknown command %d", req.Cmd))
	}
}

// buildConfig synthesizes a minimal krb5.conf equivalent pinning the one realm
// and KDC this daemon was configured with.
func buildConfig(realm, kdcAddr string) (*config.Config, error) {
	cfg := config.New()
	cfg.LibDefaults.DefaultRealm = realm
	cfg.LibDefaults.DNSLookupKDC = false
	cfg.LibDefaults.DNSLookupRealm = false

	cfg.Realms = append(cfg.Realms, config.Realm{
		Realm:         realm,
		KDC:           []string{kdcAddr},
		AdminServer:   []string{kdcAddr},
		DefaultDomain: realm,
	})

	cfg.DomainRealm[realm] = realm

	return cfg, nil
}

func authenticate(cfg *config.Config, req authchild.Request) authchild.Reply {
	username, realm := splitUPN(req.UPN)
	if username == "" {
		return systemError(fmt.Errorf("malformed UPN %q", req.UPN))
	}

	cl := client.NewWithPassword(username, realm, string(req.Authtok), cfg, client.DisablePAFXFAST(true))
	defer cl.Destroy()

	if err := cl.Login(); err != nil {
		return authFailed(err)
	}

	return authchild.Reply{Status: authchild.PamSuccess, MsgType: authchild.MsgTypeInfo}
}

func chauthtok(cfg *config.Config, req authchild.Request, changePwPrincipal string) authchild.Reply {
	username, realm := splitUPN(req.UPN)
	if username == "" {
		return systemError(fmt.Errorf("malformed UPN %q", req.UPN))
	}

	cl := client.NewWithPassword(username, realm, string(req.Authtok), cfg, client.DisablePAFXFAST(true))
	defer cl.Destroy()

	if err := cl.Login(); err != nil {
		return authFailed(err)
	}

	_ = changePwPrincipal // the kadmin change-password exchange targets the realm's kadmin service, not a distinct principal

	if _, err := kadmin.ChangePasswd(username, realm, cfg, string(req.Authtok), string(req.NewAuthtok)); err != nil {
		return authchild.Reply{Status: authchild.PamAuthFailed, MsgType: authchild.MsgTypeError, Message: err.Error()}
	}

	return authchild.Reply{Status: authchild.PamSuccess, MsgType: authchild.MsgTypeInfo}
}

// splitUPN extracts the username and realm from a user@REALM principal name.
func splitUPN(upn string) (user, realm string) {
	for i := len(upn) - 1; i >= 0; i-- {
		if upn[i] == '@' {
			return upn[:i], upn[i+1:]
		}
	}

	return "", ""
}

func systemError(err error) authchild.Reply {
	log.Error().Err(err).Msg("krb5helper system error")

	return authchild.Reply{Status: authchild.PamSystemError, MsgType: authchild.MsgTypeError, Message: err.Error()}
}

// authFailed maps a login error to a reply: a KDC networking error becomes
// AUTH_UNAVAILABLE, anything else AUTH_FAILED.
func authFailed(err error) authchild.Reply {
	status := authchild.PamAuthFailed

	var kerr krberror.Krberror
	if errors.As(err, &kerr) && kerr.RootCause == krberror.NetworkingError {
		status = authchild.PamAuthUnavailable
	}

	return authchild.Reply{Status: status, MsgType: authchild.MsgTypeError, Message: err.Error()}
}
