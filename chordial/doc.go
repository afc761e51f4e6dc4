// Package chordial implements a Discord music bot that streams audio through
// a Lavalink node, with per-guild queues, saved track libraries, play-history
// recommendations and an optional conversational persona.
//
// Chordial runs as a single process: it maintains the Discord gateway session,
// speaks the Lavalink REST/websocket protocol for playback (the node handles
// the audio frames), persists state to SQLite or Postgres, and serves a small
// backend API for monitoring and runtime configuration.
//
// Key components of the package include:
//
//   - Chordial: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles Discord integration and interaction processing.
//   - Lavalink: Manages the connection to the audio node.
//   - QueueManager / GuildQueue: Per-guild track queues and play history.
//   - PlayerManager: Reacts to node player events and drives the queues.
//   - LibraryManager: Saved, named track collections per guild.
//   - Recommender: Suggests tracks based on a guild's play history.
//   - Chat: Answers @-mentions in the bot's persona.
//   - API: Provides a backend API for bot management and monitoring.
//
// The bot supports commands such as /play, /skip, /pause, /resume, /queue,
// /nowplaying, /shuffle, /volume, /seek, /replay, /autoplay, /library and
// /recommend.
//
// Chordial also includes per-user rate limiting, user management, and
// extensive logging to ensure smooth operation and easy troubleshooting.
package chordial
