package transport

// AsyncRead registers interest in readability and returns immediately. handler
// runs on its own goroutine once a datagram can be read (nil), a per-packet
// error was pending on the socket, or the socket closed (ErrSocketClosed).
// The datagram itself stays queued for the next Read.
func (s *UDPSocket) AsyncRead(handler func(error)) {
	h, err := s.bound()
	if err != nil {
		go handler(err)
		return
	}
	go func() {
		handler(h.waitReadable())
	}()
}

// AsyncWrite registers interest in writability and returns immediately.
// handler runs on its own goroutine once every queued datagram was handed to
// the OS, at once when the queue is empty, or with the error that stopped the
// flush.
func (s *UDPSocket) AsyncWrite(handler func(error)) {
	h, err := s.bound()
	if err != nil {
		go handler(err)
		return
	}
	go func() {
		var firstErr error
		err := h.whenWritable(func(send sendFunc) bool {
			if s.IsClosed() {
				return true
			}
			_, empty, err := s.queue.flush(send)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return empty
		})
		if err == nil && s.IsClosed() {
			err = ErrSocketClosed
		}
		if err == nil {
			err = firstErr
		}
		handler(err)
	}()
}
