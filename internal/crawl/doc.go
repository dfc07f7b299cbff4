// Package crawl implements the crawl orchestration engine: the single-worker
// Runner that walks a (content type × server) unit matrix against the upstream
// ranking API, together with the policies it leans on (quota guard, adaptive
// rate controller, bounded retry, checkpoint and history persistence).
package crawl
