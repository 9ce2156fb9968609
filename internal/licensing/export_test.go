package licensing

// GuardCount reports how many guards the manager retains.
func (m *Manager) GuardCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.guards)
}
