// Package session tracks in-flight generation runs. A session is the
// volatile view of one run: which scenes have completed, which failed, and
// who is watching. Durable state lives on the storyboard record; sessions
// exist only while the daemon process does.
package session
