// Package harness runs reconciliation scenarios against the real store,
// queue, engine and HTTP API.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: hung_submission
//	description: "A submission whose notification never arrives is nudged"
//	experiment: experiment.yaml   # optional, relative to the scenario
//	max_attempts: 2               # optional queue delivery limit
//	participants:
//	  - id: p1
//	    assignment: A1
//	    status: submitted         # name or numeric code
//	    ended: true               # optional end-of-HIT timestamp
//	steps:
//	  - request:
//	      method: POST
//	      path: /node
//	      params: { participant_id: p1 }
//	      expect: { code: 403, status: error, error_type: already_submitted }
//	  - notify:
//	      - { event: AssignmentSubmitted, assignment: A1 }
//	  - drain: true
//	  - nudge: true
//	  - replay: true
//	  - fail_hook: submission_trigger
//	assertions:
//	  - type: participant_status
//	    participant: p1
//	    status: complete
//	  - type: hook_count
//	    hook: submission_trigger
//	    participant: p1
//	    count: 1
//
// # Steps
//
//   - request: sends one GET or POST to the API; expect checks the response
//   - notify: posts a notification batch to /notifications
//   - drain: runs the worker until no job is deliverable
//   - nudge: runs the nudge sweep through POST /nudge
//   - replay: requeues every finished and dead job
//   - fail_hook: makes the next call of a hook fail
//
// # Assertion Types
//
//   - participant_status: a participant's final status
//   - hook_count: how often a hook ran, optionally for one participant
//   - hook_order: first calls of the listed hooks appear in order
//   - notification_count: notification log rows for an assignment
//   - job_count: jobs in a delivery state
//   - node_count: nodes owned by a participant, optionally failed or live
//   - trace_contains: some trace event carries the given fields
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory database with a stepping clock
// and sequential job ids, so the trace is identical across runs and can be
// compared with a golden file (see RunWithGolden).
package harness
