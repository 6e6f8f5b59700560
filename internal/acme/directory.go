package acme

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/blockadesystems/acmeforge/internal/config"
)

// Directory is the discovery document clients fetch first (RFC 8555 §7.1.1).
type Directory struct {
	NewNonce   string         `json:"newNonce"`
	NewAccount string         `json:"newAccount"`
	NewOrder   string         `json:"newOrder"`
	RevokeCert string         `json:"revokeCert"`
	KeyChange  string         `json:"keyChange"`
	Meta       *DirectoryMeta `json:"meta,omitempty"`
}

// DirectoryMeta carries operator policy information.
type DirectoryMeta struct {
	TermsOfService          string   `json:"termsOfService,omitempty"`
	Website                 string   `json:"website,omitempty"`
	CAAIdentities           []string `json:"caaIdentities,omitempty"`
	ExternalAccountRequired bool     `json:"externalAccountRequired"`
}

// HandleDirectory serves the directory document. This endpoint is excluded
// from the authentication pipeline so clients can bootstrap from it.
func HandleDirectory(c echo.Context) error {
	cfg := c.Get("cfg").(*config.Config)
	base := cfg.ACMEBaseURL()

	dir := Directory{
		NewNonce:   base + "/new-nonce",
		NewAccount: base + "/new-account",
		NewOrder:   base + "/new-order",
		RevokeCert: base + "/revoke-cert",
		KeyChange:  base + "/key-change",
		Meta: &DirectoryMeta{
			TermsOfService:          cfg.TermsOfService,
			Website:                 cfg.Website,
			CAAIdentities:           []string{cfg.CAAIdentity},
			ExternalAccountRequired: false,
		},
	}

	c.Response().Header().Set("Link", fmt.Sprintf("<%s>;rel=%q", base+"/directory", "index"))
	return c.JSON(http.StatusOK, dir)
}
