// Package discovery advertises and finds chanwire servers over mDNS/DNS-SD.
//
// Servers register one instance of the _chanwire._tcp service. The TXT
// record describes how to reach the socket endpoint:
//
//	path=/socket transport=ws codec=json v=1
//
// Browsers aggregate answers by instance name, so a server reachable on
// several interfaces shows up once with all of its addresses.
package discovery
