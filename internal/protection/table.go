package protection

// builtinEntries is the static protection table, loaded once at startup.
// Entries for other platforms are kept in the map but never match because
// lookups filter on the current platform.
func builtinEntries() []*Entry {
	windows := []*Entry{
		{Name: "System", Description: "Windows system process", Level: Critical, Platform: "windows", Kernel: true, MaxPID: 10},
		{Name: "Registry", Description: "Windows registry process", Level: Critical, Platform: "windows", Kernel: true},
		{Name: "smss.exe", Description: "session manager", Level: Critical, Platform: "windows"},
		{Name: "csrss.exe", Description: "client/server runtime process", Level: Critical, Platform: "windows"},
		{Name: "wininit.exe", Description: "Windows initialization process", Level: Critical, Platform: "windows"},
		{Name: "winlogon.exe", Description: "Windows logon process", Level: Critical, Platform: "windows"},
		{Name: "services.exe", Description: "service control manager", Level: Critical, Platform: "windows"},
		{Name: "lsass.exe", Description: "local security authority process", Level: Critical, Platform: "windows"},
		{Name: "ntoskrnl.exe", Description: "Windows kernel", Level: Critical, Platform: "windows", Kernel: true},

		{Name: "explorer.exe", Description: "Windows shell", Level: High, Platform: "windows"},
		{Name: "dwm.exe", Description: "desktop window manager", Level: High, Platform: "windows"},
		{Name: "svchost.exe", Description: "service host process", Level: High, Platform: "windows", Service: true},
		{Name: "MsMpEng.exe", Description: "Microsoft Defender antimalware service", Level: High, Platform: "windows"},

		{Name: "audiodg.exe", Description: "Windows audio device graph isolation", Level: Medium, Platform: "windows"},
		{Name: "spoolsv.exe", Description: "print spooler service", Level: Medium, Platform: "windows", Service: true},
		{Name: "dllhost.exe", Description: "COM+ surrogate process", Level: Medium, Platform: "windows"},
		{Name: "conhost.exe", Description: "console window host", Level: Medium, Platform: "windows"},
		{Name: "RuntimeBroker.exe", Description: "runtime broker", Level: Medium, Platform: "windows"},
		{Name: "SecurityHealthService.exe", Description: "Windows security health service", Level: Medium, Platform: "windows"},

		// GPU driver processes: killing these takes the display down with them
		{Name: "nvcontainer.exe", Description: "NVIDIA container runtime", Level: Medium, Platform: "windows"},
		{Name: "nvidia-container.exe", Description: "NVIDIA container", Level: Medium, Platform: "windows"},
		{Name: "nvdisplay.container.exe", Description: "NVIDIA display container", Level: Medium, Platform: "windows"},
		{Name: "nvspcaps64.exe", Description: "NVIDIA capture server proxy", Level: Low, Platform: "windows"},
	}

	linux := []*Entry{
		{Name: "init", Description: "init process", Level: Critical, Platform: "linux", MinPID: 1, MaxPID: 1},
		{Name: "systemd", Description: "systemd init system", Level: Critical, Platform: "linux", MinPID: 1, MaxPID: 1},
		{Name: "kthreadd", Description: "kernel thread daemon", Level: Critical, Platform: "linux", Kernel: true, MinPID: 2, MaxPID: 10},

		{Name: "ksoftirqd", Description: "software interrupt daemon", Level: High, Platform: "linux", Kernel: true},
		{Name: "migration", Description: "CPU migration thread", Level: High, Platform: "linux", Kernel: true},
		{Name: "rcu_", Description: "RCU kernel thread", Level: High, Platform: "linux", Kernel: true, MatchPattern: "^rcu_"},
		{Name: "watchdog", Description: "hardware watchdog", Level: High, Platform: "linux", Kernel: true},
		{Name: "swapper", Description: "idle process", Level: High, Platform: "linux", Kernel: true},

		{Name: "systemd-", Description: "systemd daemon", Level: Medium, Platform: "linux", MatchPattern: "^systemd-"},
		{Name: "NetworkManager", Description: "network manager", Level: Medium, Platform: "linux"},
		{Name: "dbus", Description: "D-Bus message bus", Level: Medium, Platform: "linux"},
		{Name: "sshd", Description: "SSH daemon", Level: Medium, Platform: "linux"},
		{Name: "chronyd", Description: "NTP client/server", Level: Medium, Platform: "linux"},
		{Name: "nvidia-", Description: "NVIDIA driver process", Level: Medium, Platform: "linux", MatchPattern: "^nvidia-"},
		{Name: "Xorg", Description: "X window server", Level: Medium, Platform: "linux"},
		{Name: "gdm", Description: "GNOME display manager", Level: Medium, Platform: "linux"},
	}

	darwin := []*Entry{
		{Name: "kernel_task", Description: "macOS kernel task", Level: Critical, Platform: "darwin", Kernel: true},
		{Name: "launchd", Description: "macOS init process", Level: Critical, Platform: "darwin", MinPID: 1, MaxPID: 1},

		{Name: "WindowServer", Description: "macOS window server", Level: High, Platform: "darwin"},
		{Name: "Finder", Description: "macOS Finder", Level: High, Platform: "darwin"},
		{Name: "Dock", Description: "macOS Dock", Level: High, Platform: "darwin"},

		{Name: "com.apple.", Description: "Apple system service", Level: Medium, Platform: "darwin", MatchPattern: "^com.apple."},
		{Name: "syslogd", Description: "system log daemon", Level: Medium, Platform: "darwin"},
		{Name: "mds", Description: "Spotlight metadata server", Level: Medium, Platform: "darwin"},
	}

	all := append(windows, linux...)
	return append(all, darwin...)
}
