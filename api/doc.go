/*
Package api groups the HTTP surface of the will escrow service.

  - willhandler - chi handlers for login and the will lifecycle
  - clients - a Go client driving the owner and beneficiary sides of the protocol

HTTPServerConfig carries the listener, drain and timeout settings shared by
the server binary and the httpserver package.
*/
package api
