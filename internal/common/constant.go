// Package common contains shared constants and sentinel errors used across
// FieldSync components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// TenantHeaderName is echoed back by the reference backend so clients can
// confirm which tenant their token resolved to.
const TenantHeaderName = "tenant_id"
