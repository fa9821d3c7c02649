// Package http provides HTTP handlers and middleware for the activity planner API.
//
// Every request is authenticated by the fronting SSO proxy, which passes the
// username in the X-Remote-User header. RequireActor resolves it to an actor.
//
// The router exposes the following endpoints:
//   - GET /activities, POST /activities: list (filters: status, campus, from,
//     to) and create activities using the `activityDTO` payload defined in
//     activity_handler.go.
//   - GET, PUT, DELETE /activities/{id}: read, edit and soft delete.
//   - POST /activities/{id}/status: {"status": "draft"|"inreview"|"cancelled"}.
//   - PUT /activities/{id}/recurrence: {"rule": {...}} or {"rule": null}; the
//     response lists the expanded occurrences.
//   - GET /activities/{id}/occurrences: stored occurrences.
//   - GET /activities/{id}/workflow: approval steps decorated for the viewer.
//   - POST /activities/{id}/approvals/{approvalID}: {"status"}, plus the
//     /skip {"skip"} and /nominate {"username"} sub-resources.
//   - POST /recurrence/preview: {"rule","start","end"} expanded without
//     persisting anything.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
