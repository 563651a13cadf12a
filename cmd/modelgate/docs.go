package main

// General API documentation for swaggo. Run `swag init -g cmd/modelgate/docs.go` to generate docs.
//
// @title           modelgate API
// @version         1.0
// @description     Multi-tenant gateway for local inference backends.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
//
// @securityDefinitions.apikey  TenantHeader
// @in                          header
// @name                        X-Tenant-ID
