package sqlinline

const QInsertReservation = `--sql 23529cc6-337a-48ed-b1f3-fed3e123801a
insert into reservations (id, account_id, amount, status, created_at)
values ($1::uuid, $2::text, $3::bigint, 'held', now())
returning created_at;
`

const QSelectReservation = `--sql 80c5a55c-1bcb-4eb7-87ce-e82d1908c55d
select id::text, account_id, amount, status, created_at, settled_at
from reservations
where id = $1::uuid
limit 1;
`

// QSettleReservation only matches held reservations, so a second commit or
// refund affects no rows.
const QSettleReservation = `--sql 8fea80e1-2fee-4872-8f9f-1f807a6293d4
update reservations
set status = $2::text,
    settled_at = now()
where id = $1::uuid
  and status = 'held'
returning account_id, amount;
`
