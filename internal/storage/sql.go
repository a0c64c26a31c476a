package storage

const (
	initSchemaSQL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS flights (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     INTEGER  NOT NULL,
    source         TEXT     NOT NULL,
    description    TEXT,
    start_time     DATETIME NOT NULL,
    end_time       DATETIME,
    samples        INTEGER  NOT NULL DEFAULT 0,
    max_altitude   REAL,
    ejection_state INTEGER  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS telemetry (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    flight_id         INTEGER  NOT NULL REFERENCES flights (id) ON DELETE CASCADE,
    received_at       DATETIME NOT NULL,
    connect_elapsed   REAL     NOT NULL,
    flight_elapsed    REAL     NOT NULL,
    roll              REAL,
    pitch             REAL,
    yaw               REAL,
    pressure_altitude REAL,
    altitude          REAL,
    accel_x           REAL,
    accel_y           REAL,
    accel_z           REAL,
    latitude          REAL,
    longitude         REAL,
    vel_north         REAL,
    vel_east          REAL,
    vel_down          REAL,
    temperature       REAL,
    pressure          REAL,
    launch_state      INTEGER  NOT NULL,
    ejection_state    INTEGER  NOT NULL,
    phase             TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    flight_id   INTEGER  NOT NULL REFERENCES flights (id) ON DELETE CASCADE,
    received_at DATETIME NOT NULL,
    level       TEXT     NOT NULL,
    message     TEXT     NOT NULL
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_telemetry_flight ON telemetry (flight_id, connect_elapsed);
CREATE INDEX IF NOT EXISTS idx_events_flight ON events (flight_id, received_at);`

	insertFlightSQL = `
INSERT INTO flights (
                     session_id,
                     source,
                     description,
                     start_time)
VALUES (?, ?, ?, ?)`

	updateFlightSummarySQL = `
UPDATE flights
SET end_time       = ?,
    samples        = samples + ?,
    max_altitude   = MAX(COALESCE(max_altitude, ?), ?),
    ejection_state = ?
WHERE id = ?`

	selectFlightSQL = `
SELECT 
    id, 
    session_id, 
    source, 
    description, 
    start_time, 
    end_time, 
    samples, 
    max_altitude, 
    ejection_state
FROM flights 
WHERE 
    id = ?`

	selectFlightsSQL = `
SELECT 
    id, 
    session_id, 
    source, 
    description, 
    start_time, 
    end_time, 
    samples, 
    max_altitude, 
    ejection_state
FROM flights
ORDER BY start_time, id`

	insertTelemetrySQL = `
INSERT INTO telemetry (
                       flight_id,
                       received_at,
                       connect_elapsed,
                       flight_elapsed,
                       roll,
                       pitch,
                       yaw,
                       pressure_altitude,
                       altitude,
                       accel_x,
                       accel_y,
                       accel_z,
                       latitude,
                       longitude,
                       vel_north,
                       vel_east,
                       vel_down,
                       temperature,
                       pressure,
                       launch_state,
                       ejection_state,
                       phase)
VALUES `

	telemetryValuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	insertEventSQL = `
INSERT INTO events (
                    flight_id,
                    received_at,
                    level,
                    message)
VALUES `

	eventValuesPlaceholder = "(?, ?, ?, ?)"

	selectEventsSQL = `
SELECT 
    received_at, 
    level, 
    message
FROM events
WHERE 
    flight_id = ?
ORDER BY received_at, id`

	selectTelemetrySQL = `
SELECT 
    received_at,
    connect_elapsed,
    flight_elapsed,
    roll,
    pitch,
    yaw,
    pressure_altitude,
    altitude,
    accel_x,
    accel_y,
    accel_z,
    latitude,
    longitude,
    vel_north,
    vel_east,
    vel_down,
    temperature,
    pressure,
    launch_state,
    ejection_state,
    phase
FROM telemetry
WHERE 
    flight_id = ?
    AND flight_elapsed BETWEEN ? AND ?
    AND launch_state >= ?
ORDER BY connect_elapsed, id`
)
