// Package daemon runs loraci as a service: it accepts push webhooks, polls
// remote heads, fires scheduled jobs and executes them one at a time.
package daemon
