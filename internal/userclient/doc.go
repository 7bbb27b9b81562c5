// Package userclient abstracts the per-user MTProto delivery client.
//
// The mailing core talks to the Client interface only; the gotd/td backed
// implementation lives here as well. A Dialer turns a stored session string
// into a live, authorized client.
package userclient
