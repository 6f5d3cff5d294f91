// Package identity holds streamgate's user records and the credential-store
// boundary the session manager authenticates against.
//
// The core only ever reads user records and writes last_login; account
// provisioning (creating users, assigning device limits) happens out of band.
package identity
