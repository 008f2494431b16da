package main

// General API documentation for swaggo. Run `swag init -g cmd/hochat/docs.go`
// to regenerate ./docs after changing handler annotations.
//
// @title           hochat API
// @version         1.0
// @description     HTTP API for a local LLM chat with persistent conversation history.
//
// @contact.name   hochat maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
