package stream

import (
	"context"
	"sync"

	"github.com/javi11/streamfile/internal/backend"
)

// openBackend implements spec §4.5.3. It must be called with s.mu
// unlocked; it manages its own locking around the (possibly blocking)
// wait for the new backend's open/error event, including transparent
// retry on the range-cache anomaly (§4.4.1).
func (s *Stream) openBackend(ctx context.Context) (backend.Backend, error) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, newErr(CacheInvariant, "open_backend called with a backend already in flight", nil)
	}

	readable := s.cache.BytesReadable(s.opts.ChunkSize)
	readTail := s.cache.ReadOffset() + readable
	if err := s.cache.SeekWrite(readTail); err != nil {
		s.mu.Unlock()
		return nil, newErr(CacheInvariant, "seek_write(read_tail) failed", err)
	}
	if s.length >= 0 && readTail >= s.length {
		s.mu.Unlock()
		return nil, nil
	}

	writable := s.cache.BytesWritable(s.opts.ChunkSize)
	if s.length >= 0 {
		if remain := s.length - readTail; remain < writable {
			writable = remain
		}
	}
	if writable <= 0 {
		s.mu.Unlock()
		return nil, nil
	}

	writeOffset := readTail
	cachever := s.cachever
	url := s.opts.URL
	headers := s.opts.Headers
	progressive := s.opts.Progressive
	s.mu.Unlock()

	for {
		var (
			bk          backend.Backend
			writtenMu   sync.Mutex
			writtenByte int64
			anomalyMu   sync.Mutex
			anomaly     bool
		)
		openCh := make(chan error, 1)

		ev := backend.Events{
			OnOpen: func(m backend.Meta) {
				s.mu.Lock()
				s.seekable = m.Seekable
				if m.Length >= 0 {
					s.length = m.Length
				}
				if m.Headers != nil {
					s.headers = m.Headers
				}
				s.mu.Unlock()
				if metric := s.opts.Metrics; metric != nil {
					metric.BackendRequests.WithLabelValues("opened").Inc()
				}
				select {
				case openCh <- nil:
				default:
				}
			},
			OnBuffer: func(b []byte) {
				s.mu.Lock()
				if s.current != bk {
					s.mu.Unlock()
					return
				}
				err := s.cache.Write(b)
				var filledBytes int64
				var segmentCount int
				if err == nil && s.opts.Metrics != nil {
					filledBytes = s.cache.FilledBytes()
					segmentCount = s.cache.SegmentCount()
				}
				s.mu.Unlock()
				if err == nil {
					writtenMu.Lock()
					writtenByte += int64(len(b))
					writtenMu.Unlock()
					if m := s.opts.Metrics; m != nil {
						m.BackendBytesRead.Add(float64(len(b)))
						m.CacheFilledBytes.Set(float64(filledBytes))
						m.CacheSegmentCount.Set(float64(segmentCount))
					}
				}
			},
			OnDone: func() {
				s.mu.Lock()
				if s.current == bk {
					if s.length < 0 {
						writtenMu.Lock()
						wb := writtenByte
						writtenMu.Unlock()
						s.length = writeOffset + wb
						_ = s.cache.SetEof(s.length)
					}
					s.current = nil
					s.currentGen++
				}
				s.mu.Unlock()
			},
			OnCachever: func() {
				s.mu.Lock()
				s.cachever++
				s.mu.Unlock()
				anomalyMu.Lock()
				anomaly = true
				anomalyMu.Unlock()
				if metric := s.opts.Metrics; metric != nil {
					metric.CachverRetries.Inc()
					metric.BackendRequests.WithLabelValues("cachever").Inc()
				}
			},
			OnError: func(err error) {
				s.mu.Lock()
				if s.current == bk {
					s.current = nil
					s.currentGen++
				}
				s.mu.Unlock()
				if metric := s.opts.Metrics; metric != nil {
					metric.BackendRequests.WithLabelValues("error").Inc()
				}
				select {
				case openCh <- err:
				default:
				}
			},
		}

		s.mu.Lock()
		if s.current != nil {
			// Lost a race with another opener (e.g. readahead firing
			// concurrently with an explicit Buffer call); back off
			// rather than clobber the backend already in flight.
			s.mu.Unlock()
			return nil, nil
		}
		req := backend.Request{
			URL:         url,
			Offset:      writeOffset,
			Length:      writable,
			Cachever:    cachever,
			Progressive: progressive,
			Headers:     headers,
		}
		bk = s.opts.Backend.New(req, ev)
		s.current = bk
		s.mu.Unlock()
		if metric := s.opts.Metrics; metric != nil {
			metric.BackendRequests.WithLabelValues("requested").Inc()
		}

		if err := bk.Load(ctx); err != nil {
			s.mu.Lock()
			if s.current == bk {
				s.current = nil
			}
			s.mu.Unlock()
			anomalyMu.Lock()
			wasAnomaly := anomaly
			anomalyMu.Unlock()
			if wasAnomaly {
				s.mu.Lock()
				cachever = s.cachever
				s.mu.Unlock()
				continue
			}
			return nil, err
		}

		select {
		case err := <-openCh:
			anomalyMu.Lock()
			wasAnomaly := anomaly
			anomalyMu.Unlock()
			if wasAnomaly {
				s.mu.Lock()
				cachever = s.cachever
				s.mu.Unlock()
				continue
			}
			if err != nil {
				return nil, err
			}
			return bk, nil
		case <-ctx.Done():
			bk.Abort()
			return nil, ctx.Err()
		}
	}
}
