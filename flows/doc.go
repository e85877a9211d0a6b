// Package flows defines the concrete phase graphs a work item moves
// through: refinement (analyze the ticket and ask clarifying
// questions), planning (draft an implementation plan and have it
// reviewed), and implementation (apply the plan and open a pull
// request).
//
// Each graph suspends at its human gate — posted questions, a plan
// under review, a pull request in review — and resumes when the webhook
// adapter delivers the human's reply. Graph chaining happens between
// runs: NextGraph maps the phase a finished run left the item in to the
// graph that should start next.
package flows
