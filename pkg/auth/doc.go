// Package auth issues and validates short-lived signed tokens for
// service-to-service handoff.
//
// # Overview
//
// The Issuer signs compact JWTs (HS256 only) carrying subject, audience,
// and caller-supplied claims. Validation is deliberately strict and
// deliberately quiet: any token that is not a well-formed HS256 token
// signed by the configured key and inside its validity window fails with
// one opaque error, so callers cannot tell which check rejected it.
//
// # Usage Example
//
//	issuer, err := auth.NewIssuer(cfg.TokenSecret)
//	if err != nil {
//		return err
//	}
//	tok, err := issuer.Issue("service:sync", []string{"mattermost"}, 5*time.Minute, nil)
//	if err != nil {
//		return err
//	}
//	claims, err := issuer.Validate(tok.Value)
//
// # Key Material
//
// The signing secret may be supplied base64-encoded (standard or URL-safe,
// padded or not) or as a raw string; decoding is attempted in that order.
// The decoded key must be at least 16 bytes.
package auth
